// Package main provides the entry point for the microquant application.
package main

import (
	"flag"
	"os"

	"fyne.io/fyne/v2/app"
	"github.com/sirupsen/logrus"

	"microquant/internal/version"
	"microquant/pkg/config"
	"microquant/ui/mainwindow"
	"microquant/ui/prefs"
)

func main() {
	configPath := flag.String("config", "", "analysis parameter YAML (optional)")
	verbose := flag.Bool("v", false, "debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if *showVersion {
		os.Stdout.WriteString(version.String() + "\n")
		return
	}
	log.Info(version.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	fyneApp := app.NewWithID("io.microquant.app")
	appPrefs := prefs.Load()

	win := mainwindow.New(fyneApp, cfg, appPrefs, log)
	win.Window().SetOnClosed(win.SavePreferences)

	if flag.NArg() > 0 {
		win.OpenImage(flag.Arg(0))
	}

	win.ShowAndRun()
}

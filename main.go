package main

import (
	"log"
	"os"

	"github.com/getlantern/systray"

	"github.com/ibeckermayer/post4me/internal/app"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/store"
	"github.com/ibeckermayer/post4me/internal/tray"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load or create configuration
	cfg, err := config.Load()
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
			if err := cfg.Save(); err != nil {
				log.Printf("Warning: could not save default config: %v", err)
			} else {
				path, _ := config.ConfigPath()
				log.Printf("Created default config at: %s", path)
			}
		} else {
			log.Printf("Warning: could not load config: %v (using defaults)", err)
			cfg = config.Default()
		}
	}

	statePath, err := config.StatePath()
	if err != nil {
		log.Fatalf("Failed to get state path: %v", err)
	}
	kv, err := store.New(statePath)
	if err != nil {
		log.Fatalf("Failed to open local state: %v", err)
	}
	defer kv.Close()

	a, err := app.New(cfg, kv)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	log.Println("post4me starting...")

	// Run systray (blocks until Quit)
	systray.Run(tray.OnReady(a), tray.OnExit)
}

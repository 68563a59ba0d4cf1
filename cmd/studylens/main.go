package main

import (
	"log"

	"github.com/metabolights/folder-lens/lens"
	"github.com/metabolights/folder-lens/lens/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags)

	config, err := cmd.ParseFlags(nil)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
	logCloser := cmd.SetupLogging(config)

	err = lens.NewEngine(config).Run()
	if err != nil {
		log.Printf("%s%v", lens.ErrorLogPrefix, err)
	}
	_ = logCloser.Close()
	if err != nil {
		log.Fatal("study check failed")
	}
}

package main

import (
	"log"

	"github.com/chirhoevents/Chirhoevents-sub010/cmd"
	_ "github.com/chirhoevents/Chirhoevents-sub010/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}

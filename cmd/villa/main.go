package main

import (
	"log"

	"villa/cmd/villa/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}

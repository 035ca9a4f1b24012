package main

import "github.com/kjstillabower/meteo-pwa/internal/cli"

func main() {
	cli.Execute()
}

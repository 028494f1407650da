package main

import "github.com/ramiqadoumi/celery-exporter/services/exporter/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vuongtran/cardetl/internal/cli"

func main() {
	cli.Execute()
}

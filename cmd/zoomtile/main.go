package main

import "github.com/MeKo-Tech/zoomtile/internal/cmd"

func main() {
	cmd.Execute()
}

package main

import (
	"github.com/apexhq/apex/pkg/cmd"
)

func main() {
	cmd.Execute()
}

package main

import "github.com/Avidan87/KAI-sub000/cmd/kai"

func main() {
	kai.Execute()
}

package main

import "privacyd/internal/app/server"

func main() {
	server.Run()
}

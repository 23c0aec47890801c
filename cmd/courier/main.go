package main

import (
	"flag"
	"fmt"
	"log"

	"courier/cmd/internal/app"
	"courier/cmd/internal/auth"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the argon2id digest for a key secret (for COURIER_AUTH_KEYS) and exit")
	flag.Parse()

	if *hashKey != "" {
		digest, err := auth.HashSecret(*hashKey)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(digest)
		return
	}

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

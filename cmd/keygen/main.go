package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/openmeet-team/fieldwork/internal/api"
)

// keygen generates an ES256 JWK pair for agent token signing. The private
// key signs agent tokens; the public key goes into AGENT_PUBLIC_JWK on the
// API server. With -interviewer it also mints a ready-to-use token.
func main() {
	interviewer := flag.String("interviewer", "", "also mint an access token for this interviewer ID")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime when -interviewer is set")
	flag.Parse()

	privateJWK := api.GenerateAgentJWK()
	publicJWK, err := api.PrivateJWKToPublicJWK(privateJWK)
	if err != nil {
		log.Fatalf("Failed to derive public key: %v", err)
	}

	fmt.Println("Private JWK (keep secret):")
	fmt.Println(privateJWK)
	fmt.Println()
	fmt.Println("Public JWK (AGENT_PUBLIC_JWK):")
	fmt.Println(publicJWK)

	if *interviewer != "" {
		token, err := api.SignAgentToken(privateJWK, *interviewer, *ttl)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Println()
		fmt.Println("Access token:")
		fmt.Println(token)
	}
}

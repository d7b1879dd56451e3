package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
)

// Dev helper: mints a bearer token for REALTIME_WS_TOKEN so a local mirror
// can dial a push service that expects authenticated clients.
func main() {
	godotenv.Load("../../.env")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	userID := "dev-user-123"
	if len(os.Args) > 1 {
		userID = os.Args[1]
	}

	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
	fmt.Fprintf(os.Stderr, "user=%s expires=%s\n", userID, time.Now().Add(24*time.Hour).Format(time.RFC3339))
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/token"
	"nuha.dev/guardian/internal/util"
)

const usage = `usage: guardiancli <command>

commands:
  login <email> <password>   authenticate and store the session
  logout                     end the session
  register                   register this device
  status                     show the stored session and device identity
`

func main() {
	viper.SetDefault("server_url", "http://localhost:3333")
	viper.SetDefault("token_file", token.DefaultPath())
	viper.SetEnvPrefix("guardian")
	viper.AutomaticEnv()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(viper.GetString("token_file")), 0700); err != nil {
		fatal(err)
	}
	store, err := token.OpenFileStore(viper.GetString("token_file"))
	if err != nil {
		fatal(err)
	}
	apic := api.NewClient(store, &api.ClientConfig{BaseURL: viper.GetString("server_url")})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "login":
		if len(os.Args) != 4 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := apic.Login(ctx, os.Args[2], os.Args[3]); err != nil {
			fatal(err)
		}
		fmt.Println("logged in")
	case "logout":
		if err := apic.Logout(ctx); err != nil {
			fatal(err)
		}
		fmt.Println("logged out")
	case "register":
		id := store.DeviceUUID()
		if id == "" {
			id = util.GenUUID()
			if err := store.SetDeviceUUID(id); err != nil {
				fatal(err)
			}
		}
		rec, err := apic.RegisterDevice(ctx, &api.RegisterDeviceRequest{
			DeviceUUID: id,
			FCMToken:   store.PushToken(),
		})
		if err != nil {
			fatal(err)
		}
		if err := store.SetDeviceID(rec.DeviceID); err != nil {
			fatal(err)
		}
		fmt.Printf("registered device %s as id %d\n", id, rec.DeviceID)
	case "status":
		printStatus(store)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func printStatus(store *token.FileStore) {
	access := store.AccessToken()
	if access == "" {
		fmt.Println("session: none")
	} else {
		fmt.Println("session: present")
		// Expiry only; the signature belongs to the server.
		if claims := peekClaims(access); claims != nil && claims.ExpiresAt != nil {
			fmt.Printf("access token expires: %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
		}
	}
	if id := store.DeviceUUID(); id != "" {
		fmt.Printf("device uuid: %s\n", id)
	}
	if id := store.DeviceID(); id != 0 {
		fmt.Printf("device id: %d\n", id)
	}
	if tok := store.PushToken(); tok != "" {
		fmt.Println("push token: stored")
	}
	fmt.Printf("token file: %s\n", store.Path())
}

func peekClaims(raw string) *jwt.RegisteredClaims {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

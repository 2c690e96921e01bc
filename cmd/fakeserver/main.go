package main

import (
	"github.com/spf13/viper"

	"nuha.dev/guardian/internal/fakeserver"
)

func main() {

	viper.SetDefault("listen_addr", ":3333")
	viper.SetDefault("jwt_secret", "fakeserver-dev-secret")
	viper.SetDefault("access_ttl", "5m")
	viper.SetDefault("demo_email", "demo@example.com")
	viper.SetDefault("demo_password", "guardian-demo")
	viper.SetDefault("walk_interval", "10s")
	viper.SetEnvPrefix("fakeserver")
	viper.AutomaticEnv()

	srv := fakeserver.New(&fakeserver.Config{
		ListenAddr:   viper.GetString("listen_addr"),
		JWTSecret:    viper.GetString("jwt_secret"),
		AccessTTL:    viper.GetDuration("access_ttl"),
		DemoEmail:    viper.GetString("demo_email"),
		DemoPassword: viper.GetString("demo_password"),
		WalkInterval: viper.GetDuration("walk_interval"),
	})
	srv.Run()
}

package main

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"nuha.dev/guardian/internal/api"
	"nuha.dev/guardian/internal/fixfeed"
	"nuha.dev/guardian/internal/monitoring"
	"nuha.dev/guardian/internal/reporter"
	"nuha.dev/guardian/internal/stream"
	"nuha.dev/guardian/internal/token"
)

func main() {

	viper.SetDefault("server_url", "http://localhost:3333")
	viper.SetDefault("token_file", token.DefaultPath())
	viper.SetDefault("monitor_addr", "127.0.0.1:3335")
	viper.SetDefault("fixfeed_addr", "127.0.0.1:3336")
	viper.SetDefault("os_type", runtime.GOOS)
	viper.SetDefault("os_version", "")
	viper.SetDefault("battery_fallback", 1.0)
	viper.SetEnvPrefix("guardian")
	viper.AutomaticEnv()

	store, err := token.OpenFileStore(viper.GetString("token_file"))
	if err != nil {
		panic(err.Error())
	}
	apic := api.NewClient(store, &api.ClientConfig{BaseURL: viper.GetString("server_url")})

	var battery reporter.Battery = &reporter.SysfsBattery{}
	if _, err := battery.Level(context.Background()); err != nil {
		// Headless hosts have no readable battery; report a fixed level.
		battery = &reporter.StaticBattery{Fraction: viper.GetFloat64("battery_fallback")}
	}

	rep := reporter.New(apic, store, battery, reporter.Config{
		OSType:    viper.GetString("os_type"),
		OSVersion: viper.GetString("os_version"),
	})
	feed := fixfeed.NewListener(viper.GetString("fixfeed_addr"))
	if err := rep.Start(context.Background(), feed.Fixes()); err != nil {
		panic(err.Error())
	}
	go func() {
		if err := feed.Run(); err != nil {
			panic(err.Error())
		}
	}()

	str := stream.NewClient(apic, store, nil)
	str.Connect(&stream.Options{
		OnUpdate: func(members []api.MemberLocation) {
			log.Info().Int("members", len(members)).Msg("member locations updated")
		},
		OnHeartbeat: func(ts time.Time) {
			log.Debug().Time("server_time", ts).Msg("stream heartbeat")
		},
		OnError: func(err error) {
			log.Err(err).Msg("stream error")
		},
	})

	mon := monitoring.New(rep, str, feed, &monitoring.Config{ListenAddr: viper.GetString("monitor_addr")})
	mon.Run()
}

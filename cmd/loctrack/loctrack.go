package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/viper"
	"nuha.dev/loctrack/internal/coordinator"
	"nuha.dev/loctrack/internal/source/jsonsource"
	"nuha.dev/loctrack/internal/store"
	"nuha.dev/loctrack/internal/store/impl/memstore"
	"nuha.dev/loctrack/internal/store/impl/pgstore"
	"nuha.dev/loctrack/internal/tracking"
	"nuha.dev/loctrack/internal/web"
	"nuha.dev/loctrack/internal/webstream"
)

// allowAll stands in for the out-of-process permission subsystem: the
// daemon itself has no permission dialogs, capability checks always
// pass here and real deployments inject their own Authorizer.
type allowAll struct{}

func (allowAll) TrackingAuthorized(kind tracking.AuthorizationKind) bool { return true }
func (allowAll) PositioningEnabled() bool                               { return true }

func main() {
	viper.SetDefault("db_url", "")
	viper.SetDefault("sample_table", "sample")
	viper.SetDefault("api_addr", ":3333")
	viper.SetDefault("stream_addr", ":3334")
	viper.SetDefault("source_addr", ":5021")
	viper.SetDefault("max_accuracy", 30.0)
	viper.SetDefault("max_fix_age", 30*time.Second)
	viper.SetDefault("upload_queue_cap", 0)
	viper.SetEnvPrefix("loctrack")
	viper.AutomaticEnv()

	var sampleStore store.SampleStore
	if dbURL := viper.GetString("db_url"); dbURL != "" {
		pool, err := pgxpool.Connect(context.Background(), dbURL)
		if err != nil {
			panic(err.Error())
		}
		pg := pgstore.NewStore(pool, viper.GetString("sample_table"))
		err = pg.InitSchema()
		if err != nil {
			panic(err.Error())
		}
		sampleStore = pg
	} else {
		sampleStore = memstore.NewStore()
	}

	src := jsonsource.New(viper.GetString("source_addr"))
	coord := coordinator.New(src)
	mgr := tracking.NewManager(coord, sampleStore, allowAll{}, &tracking.ManagerConfig{
		MaxAccuracy: float32(viper.GetFloat64("max_accuracy")),
		MaxFixAge:   viper.GetDuration("max_fix_age"),
		QueueCap:    viper.GetInt("upload_queue_cap"),
	})

	stream := webstream.NewWebstream(viper.GetString("stream_addr"))
	mgr.OnSample(stream.Publish)

	go src.Run()
	go stream.Run()

	api := web.NewApi(mgr, &web.ApiConfig{ListenAddr: viper.GetString("api_addr")})
	api.Run()
}

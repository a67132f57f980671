package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	LogLevel    string `env:"CONDUIT_LOG_LEVEL,default=info"`
	LogEncoding string `env:"CONDUIT_LOG_ENCODING,default=json"`

	// WorkerLoops is the size of the worker group, 0 means one per CPU
	WorkerLoops   int `env:"CONDUIT_WORKER_LOOPS,default=0"`
	AcceptorLoops int `env:"CONDUIT_ACCEPTOR_LOOPS,default=2"`

	ReadBufferSize int `env:"CONDUIT_READ_BUFFER_SIZE,default=65536"`

	ShutdownQuietPeriod time.Duration `env:"CONDUIT_SHUTDOWN_QUIET_PERIOD,default=2s"`
	ShutdownTimeout     time.Duration `env:"CONDUIT_SHUTDOWN_TIMEOUT,default=15s"`

	DebugHTTP bool `env:"CONDUIT_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo"
	echo_middleware "github.com/labstack/echo/middleware"
	"github.com/nats-io/nats.go"
	stripesdk "github.com/stripe/stripe-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	checkout "github.com/jkantiques8-sys/stripe-checkout-poc-sub000"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/engine"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/httputils"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/provider/stripe"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/approvals"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/intake"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/services/notify"
	"github.com/jkantiques8-sys/stripe-checkout-poc-sub000/token"
)

var (
	VERSION = "dev"

	addrF       = flag.String("addr", "127.0.0.1:8081", "HTTP listen address.")
	debugAddrF  = flag.String("debug-addr", "127.0.0.1:8082", "Debug (metrics) listen address.")
	timezoneF   = flag.String("business-timezone", "America/Chicago", "Business timezone for urgency and due dates.")
	currencyF   = flag.String("currency", "usd", "Charge currency.")
	ownerNameF  = flag.String("owner-name", "", "Owner contact name for approval notifications.")
	ownerEmailF = flag.String("owner-email", "", "Owner contact email for approval notifications.")
	ownerPhoneF = flag.String("owner-phone", "", "Owner contact phone for approval notifications.")
)

func main() {
	godotenv.Load()
	defaultLogger("INFO")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	zap.L().Info("Starting...", zap.String("version", VERSION))
	defer func() { zap.L().Info("Done.") }()
	handleTerm(cancel)

	stripesdk.Key = os.Getenv("STRIPE_KEY")
	if stripesdk.Key == "" {
		zap.L().Panic("STRIPE_KEY is required.")
	}
	tokenSecret := os.Getenv("TOKEN_SECRET")
	if tokenSecret == "" {
		zap.L().Panic("TOKEN_SECRET is required.")
	}

	loc, err := time.LoadLocation(*timezoneF)
	if err != nil {
		zap.L().Panic("Failed load business timezone.", zap.String("timezone", *timezoneF), zap.Error(err))
	}

	var disp notify.Dispatcher = notify.NewLogDispatcher()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			zap.L().Panic("Failed connect to NATS.", zap.Error(err))
		}
		defer nc.Drain()
		disp = notify.NewNATSDispatcher(nc)
		zap.L().Info("NATS - connected!")
	}

	gw := stripe.NewProvider()
	store := stripe.NewStore()
	tokens := token.NewService([]byte(tokenSecret))
	eng := engine.New(engine.Config{Location: loc, Currency: *currencyF}, gw, store, disp)

	owner := checkout.CustomerContact{Name: *ownerNameF, Email: *ownerEmailF, Phone: *ownerPhoneF}

	e := echo.New()
	e.HideBanner = true
	e.Use(echo_middleware.Recover())
	e.Use(echo_middleware.Logger())
	e.Use(echo_middleware.BodyLimit("64K"))

	intake.NewServer(gw, store, tokens, disp, owner).Register(e)
	approvals.NewServer(tokens, eng).Register(e)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		zap.L().Info("Start HTTP server.", zap.String("address", *addrF))
		if err := e.Start(*addrF); err != nil && err != http.ErrServerClosed {
			zap.L().Error("Failed run HTTP server.", zap.Error(err))
		}
	}()

	debugServer := &http.Server{Addr: *debugAddrF, Handler: httputils.DebugMux()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		zap.L().Info("Start debug server.", zap.String("address", *debugAddrF))
		if err := debugServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Error("Failed run debug server.", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed shutdown HTTP server.", zap.Error(err))
	}
	if err := debugServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Failed shutdown debug server.", zap.Error(err))
	}
	wg.Wait()
}

// Configure zap logger.
//
// Available values of level:
// - DEBUG
// - INFO
// - WARN
// - ERROR
func defaultLogger(levelSet string) {
	level := zapcore.InfoLevel
	if err := level.Set(levelSet); err != nil {
		panic(err)
	}
	config := zap.NewProductionConfig()
	config.Level.SetLevel(level)
	l, err := config.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l.Named("stdlog"))
}

func handleTerm(cancel context.CancelFunc) {
	// handle termination signals: first one gracefully, force exit on the second one
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGTERM, unix.SIGINT)
	go func() {
		s := <-signals
		zap.L().Warn("Shutting down.", zap.String("signal", unix.SignalName(s.(unix.Signal))))
		cancel()

		s = <-signals
		zap.L().Panic("Exiting!", zap.String("signal", unix.SignalName(s.(unix.Signal))))
	}()
}

// Package main starts an editing process server.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/oerhub/editproc/collab"
	"github.com/oerhub/editproc/engine"
	enginehttp "github.com/oerhub/editproc/engine/http"
	"github.com/oerhub/editproc/logkeys"
	prochttp "github.com/oerhub/editproc/process/http"
	"github.com/oerhub/editproc/utils/uuid"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "editproc"
	apiRealm    = "editproc"
)

func main() {
	var (
		flDebug    = flag.Bool("debug", false, "log debug messages")
		flListen   = flag.String("listen", ":9005", "HTTP listen address")
		flVersion  = flag.Bool("version", false, "print version and exit")
		flAPIKey   = flag.String("api", "", "API key for API endpoints")
		flStorage  = flag.String("storage", "file", "name of storage backend")
		flDSN      = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flDocsURL  = flag.String("docs-url", "", "URL of the module document store")
		flDocsAPI  = flag.String("docs-api", "", "document store API key")
		flUsersURL = flag.String("users-url", "", "URL of the user directory")
		flUsersAPI = flag.String("users-api", "", "user directory API key")
		flEventURL = flag.String("event-url", "", "event webhook URL (optional)")
		flEventAPI = flag.String("event-api", "", "event webhook API key")
	)
	envflag.Parse("EDITPROC_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	if *flDocsURL == "" || *flUsersURL == "" {
		logger.Info(logkeys.Error, "document store URL and user directory URL required")
		os.Exit(1)
	}

	store, err := parseStorage(*flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	docs := collab.NewDocumentStore(*flDocsURL, collab.WithAPIKey(*flDocsAPI))
	users := collab.NewUserDirectory(*flUsersURL, collab.WithAPIKey(*flUsersAPI))

	eOpts := []engine.Option{engine.WithLogger(logger.With("service", "engine"))}
	if *flEventURL != "" {
		eOpts = append(eOpts, engine.WithEventSink(
			collab.NewWebhookEventSink(*flEventURL, collab.WithAPIKey(*flEventAPI)),
		))
	}
	e := engine.New(store, docs, users, eOpts...)

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})

			enginehttp.HandleAPIv1("/v1", mux, logger, e)
			prochttp.HandleAPIv1("/v1", mux, logger, store)
		})
	}

	ider := uuid.NewUUID()
	newTraceID := func(_ *http.Request) string { return ider.ID() }

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pihound/pihound/pkg/backend"
	"github.com/pihound/pihound/pkg/sync"
	"github.com/pihound/pihound/pkg/version"
)

type apiServer struct {
	ctx  context.Context
	log  *logrus.Entry
	port int
}

func NewAPIServer(ctx context.Context, log *logrus.Entry, port int) *apiServer {
	return &apiServer{
		ctx:  ctx,
		log:  log,
		port: port,
	}
}

func (a *apiServer) Start(b backend.Backend, syncer *sync.Syncer) error {
	logrus.Infof("Version: %s", version.Get())

	router := mux.NewRouter().StrictSlash(true)
	router.Use(loggingMiddleware(a.log))
	h := newHandler(b)

	// When functioning properly, these routes return the running version
	router.Path("/").HandlerFunc(h.root)
	router.Path("/healthz").HandlerFunc(h.root)

	api := router.PathPrefix("/api").Subrouter()

	api.Path("/clients").Methods("GET").HandlerFunc(h.listClients)
	api.Path("/client").Methods("GET").HandlerFunc(h.getClient)
	api.Path("/client/alias").Methods("POST").HandlerFunc(h.setClientAlias)

	// The domain list views pin different flag predicates; "new" means not
	// yet acknowledged, flagged or ignored.
	api.Path("/domains").Methods("GET").HandlerFunc(h.listDomains(map[string]interface{}{
		"ignored": false,
	}))
	api.Path("/domains/new").Methods("GET").HandlerFunc(h.listDomains(map[string]interface{}{
		"ignored": false, "acknowledged": false, "flagged": false,
	}))
	api.Path("/domains/flagged").Methods("GET").HandlerFunc(h.listDomains(map[string]interface{}{
		"ignored": false, "flagged": true,
	}))
	api.Path("/domains/ignored").Methods("GET").HandlerFunc(h.listDomains(map[string]interface{}{
		"ignored": true,
	}))
	api.Path("/domain").Methods("GET").HandlerFunc(h.getDomain)
	api.Path("/domain/interrogate").Methods("POST").HandlerFunc(h.interrogateDomain)
	api.Path("/domain/acknowledge").Methods("POST").HandlerFunc(h.setDomainFlag(backend.FlagAcknowledged))
	api.Path("/domain/flag").Methods("POST").HandlerFunc(h.setDomainFlag(backend.FlagFlagged))
	api.Path("/domain/ignore").Methods("POST").HandlerFunc(h.setDomainFlag(backend.FlagIgnored))

	api.Path("/sync").Methods("GET").HandlerFunc(h.listSyncRuns)
	api.Path("/sync").Methods("POST").HandlerFunc(h.triggerSync)

	// Note: this allows not found urls to be logged via the middleware.
	// It **HAS** to be defined after all other paths are defined.
	router.NotFoundHandler = router.NewRoute().HandlerFunc(http.NotFound).GetHandler()

	// Below this point is where the server is started and graceful shutdown occurs.
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: ghandlers.CORS()(router),
	}

	go func() {
		a.log.WithField("port", a.port).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatalf("listen: %s\n", err)
		}
	}()

	go syncer.Start(a.ctx, a.ctx.Done())

	<-a.ctx.Done()

	a.log.Info("shutting down the api server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer func() {
		cancel()
	}()

	if err := srv.Shutdown(ctx); err != nil {
		a.log.WithError(err).Error("unable to shutdown the api server gracefully")
		return err
	}

	return nil
}

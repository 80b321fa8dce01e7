// Package server contains the full set of handler functions and routes
// supported by the http api
package server

import (
	"expvar"
	"os"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/openmdoc/mdoc-service/config"
	"github.com/openmdoc/mdoc-service/pkg/server/framework"
	"github.com/openmdoc/mdoc-service/pkg/server/middleware"
	"github.com/openmdoc/mdoc-service/pkg/server/router"
	"github.com/openmdoc/mdoc-service/pkg/service"
	svcframework "github.com/openmdoc/mdoc-service/pkg/service/framework"
)

const (
	HealthPrefix    = "/health"
	ReadinessPrefix = "/readiness"
	MetricsPrefix   = "/debug/vars"

	IssuerMetadataPath              = "/.well-known/openid-credential-issuer"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	OfferPath                       = "/offer"
	TokenPath                       = "/token"
	NoncePath                       = "/nonce"
	CredentialPath                  = "/credential"
	VerifyPath                      = "/verify"
)

// MDocServer exposes all dependencies needed to run a http server and all its services
type MDocServer struct {
	*config.ServerConfig
	*service.MDocService
	*framework.Server
}

// NewMDocServer does two things: instantiates all service and registers their HTTP bindings
func NewMDocServer(shutdown chan os.Signal, cfg config.MDocServiceConfig) (*MDocServer, error) {
	// creates an HTTP server from the framework, and wrap it to extend it for the mdoc service
	engine := setUpEngine(cfg.Server, shutdown)
	httpServer := framework.NewHTTPServer(cfg.Server, engine, shutdown)
	mdocService, err := service.InstantiateMDocService(cfg.Services)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate mdoc service")
	}

	// service-level routers
	engine.GET(HealthPrefix, router.Health)
	engine.GET(ReadinessPrefix, router.Readiness(mdocService.GetServices()))
	engine.GET(MetricsPrefix, gin.WrapH(expvar.Handler()))

	if err = IssuanceAPI(&engine.RouterGroup, mdocService.OIDC); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate issuance API")
	}
	if err = VerificationAPI(&engine.RouterGroup, mdocService.Verification); err != nil {
		return nil, sdkutil.LoggingErrorMsg(err, "unable to instantiate verification API")
	}

	return &MDocServer{
		Server:       httpServer,
		MDocService:  mdocService,
		ServerConfig: &cfg.Server,
	}, nil
}

// setUpEngine creates the gin engine and sets up the middleware based on config
func setUpEngine(cfg config.ServerConfig, shutdown chan os.Signal) *gin.Engine {
	switch cfg.Environment {
	case config.EnvironmentDev:
		gin.SetMode(gin.DebugMode)
	case config.EnvironmentTest:
		gin.SetMode(gin.TestMode)
	case config.EnvironmentProd:
		gin.SetMode(gin.ReleaseMode)
	}

	middlewares := gin.HandlersChain{
		gin.Recovery(),
		middleware.Errors(shutdown),
		middleware.Logger(logrus.StandardLogger()),
		middleware.Metrics(),
	}
	if cfg.JagerEnabled {
		middlewares = append(middlewares, middleware.Tracing())
	}
	if cfg.EnableAllowAllCORS {
		middlewares = append(middlewares, middleware.CORS())
	}

	// set up engine and middleware
	engine := gin.New()
	engine.Use(middlewares...)
	return engine
}

// IssuanceAPI registers the OpenID4VCI endpoints and metadata documents
func IssuanceAPI(rg *gin.RouterGroup, service svcframework.Service) error {
	oidcRouter, err := router.NewOIDCRouter(service)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating oidc router")
	}

	rg.GET(IssuerMetadataPath, oidcRouter.IssuerMetadata)
	rg.GET(AuthorizationServerMetadataPath, oidcRouter.AuthorizationServerMetadata)
	rg.POST(OfferPath, oidcRouter.CredentialOffer)
	rg.POST(TokenPath, oidcRouter.Token)
	rg.POST(NoncePath, oidcRouter.Nonce)
	rg.POST(CredentialPath, oidcRouter.Credential)
	return nil
}

// VerificationAPI registers the mdoc verification endpoint
func VerificationAPI(rg *gin.RouterGroup, service svcframework.Service) error {
	verificationRouter, err := router.NewVerificationRouter(service)
	if err != nil {
		return sdkutil.LoggingErrorMsg(err, "creating verification router")
	}

	rg.POST(VerifyPath, verificationRouter.VerifyCredential)
	return nil
}

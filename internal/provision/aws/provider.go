// Package aws is the reference cloud backend: RDS for the relational
// store, ECS services for the graph store and the application service, and
// Secrets Manager for secrets.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

// Options configure where stack services land.
type Options struct {
	Region string
	// Cluster is the ECS cluster services are created in.
	Cluster string
	// Subnets and SecurityGroup form the awsvpc network configuration.
	Subnets       []string
	SecurityGroup string
	// ServiceDomain is the service-discovery namespace used to derive
	// stable addresses for ECS services.
	ServiceDomain string
}

type Provider struct {
	opts Options

	rdsClient     *rds.Client
	ecsClient     *ecs.Client
	secretsClient *secretsmanager.Client
}

func New(ctx context.Context, opts Options) (*Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if opts.Cluster == "" {
		opts.Cluster = "stackdeploy"
	}
	if opts.ServiceDomain == "" {
		opts.ServiceDomain = "stackdeploy.internal"
	}
	return &Provider{
		opts:          opts,
		rdsClient:     rds.NewFromConfig(cfg),
		ecsClient:     ecs.NewFromConfig(cfg),
		secretsClient: secretsmanager.NewFromConfig(cfg),
	}, nil
}

func (p *Provider) Create(ctx context.Context, kind provision.Kind, name string, params provision.Params) (provision.Handle, error) {
	switch kind {
	case provision.KindSecret:
		return p.createSecret(ctx, name, params)
	case provision.KindDatabase:
		return p.createDatabase(ctx, name, params)
	case provision.KindGraphStore:
		return p.createService(ctx, kind, name, graphTaskSpec(name, params))
	case provision.KindAppService:
		return p.createService(ctx, kind, name, appTaskSpec(name, params))
	default:
		return provision.Handle{}, fmt.Errorf("unsupported resource kind: %s", kind)
	}
}

func (p *Provider) Destroy(ctx context.Context, handle provision.Handle) error {
	switch handle.Type {
	case provision.KindSecret:
		return p.destroySecret(ctx, handle)
	case provision.KindDatabase:
		return p.destroyDatabase(ctx, handle)
	case provision.KindGraphStore, provision.KindAppService:
		return p.destroyService(ctx, handle)
	default:
		return fmt.Errorf("unsupported resource kind: %s", handle.Type)
	}
}

func strPtr(s string) *string { return aws.String(s) }

package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

const serviceStableWait = 10 * time.Minute

// taskSpec is the container layout for one ECS-hosted stack service.
type taskSpec struct {
	family  string
	image   string
	port    int32
	cpu     string
	memory  string
	env     map[string]string
	secrets map[string]string // env name -> secret ARN
	scheme  string
}

func graphTaskSpec(name string, params provision.Params) taskSpec {
	return taskSpec{
		family: name,
		image:  "neo4j:5.23-community",
		port:   7687,
		cpu:    "1024",
		memory: "2048",
		env: map[string]string{
			"NEO4J_AUTH":                         "neo4j/" + params["password"],
			"NEO4J_server_memory_heap_max__size": "1G",
		},
		scheme: "bolt",
	}
}

func appTaskSpec(name string, params provision.Params) taskSpec {
	return taskSpec{
		family: name,
		image:  params["image"],
		port:   8080,
		cpu:    "256",
		memory: "512",
		env: map[string]string{
			"POSTGRES_HOST":    params["db_address"],
			"POSTGRES_USER":    "postgres",
			"POSTGRES_DB":      "app",
			"GRAPH_URL":        params["graph_address"],
			"DEFAULT_GROUP_ID": params["default_user_id"],
		},
		secrets: map[string]string{
			"POSTGRES_PASSWORD": params["db_secret"],
			"GRAPH_PASSWORD":    params["graph_secret"],
			"OPENAI_API_KEY":    params["api_key_secret"],
		},
		scheme: "https",
	}
}

func (p *Provider) createService(ctx context.Context, kind provision.Kind, name string, spec taskSpec) (provision.Handle, error) {
	address := p.serviceAddress(spec, name)

	// Deterministic naming: if the service already exists and is active,
	// a duplicate create resolves to it.
	desc, err := p.ecsClient.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  strPtr(p.opts.Cluster),
		Services: []string{name},
	})
	if err == nil {
		for _, svc := range desc.Services {
			if svc.Status != nil && *svc.Status == "ACTIVE" {
				return provision.Handle{Type: kind, ProviderID: name, Address: address}, nil
			}
		}
	}

	container := ecstypes.ContainerDefinition{
		Name:  strPtr(name),
		Image: strPtr(spec.image),
		PortMappings: []ecstypes.PortMapping{
			{ContainerPort: int32Ptr(spec.port)},
		},
	}
	for k, v := range spec.env {
		container.Environment = append(container.Environment, ecstypes.KeyValuePair{
			Name:  strPtr(k),
			Value: strPtr(v),
		})
	}
	for k, arn := range spec.secrets {
		if arn == "" {
			continue
		}
		container.Secrets = append(container.Secrets, ecstypes.Secret{
			Name:      strPtr(k),
			ValueFrom: strPtr(arn),
		})
	}

	taskDef, err := p.ecsClient.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  strPtr(spec.family),
		RequiresCompatibilities: []ecstypes.Compatibility{ecstypes.CompatibilityFargate},
		NetworkMode:             ecstypes.NetworkModeAwsvpc,
		Cpu:                     strPtr(spec.cpu),
		Memory:                  strPtr(spec.memory),
		ContainerDefinitions:    []ecstypes.ContainerDefinition{container},
	})
	if err != nil {
		return provision.Handle{}, fmt.Errorf("register task definition: %w", err)
	}

	_, err = p.ecsClient.CreateService(ctx, &ecs.CreateServiceInput{
		Cluster:        strPtr(p.opts.Cluster),
		ServiceName:    strPtr(name),
		TaskDefinition: taskDef.TaskDefinition.TaskDefinitionArn,
		DesiredCount:   int32Ptr(1),
		LaunchType:     ecstypes.LaunchTypeFargate,
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        p.opts.Subnets,
				SecurityGroups: []string{p.opts.SecurityGroup},
				AssignPublicIp: ecstypes.AssignPublicIpDisabled,
			},
		},
	})
	if err != nil {
		return provision.Handle{}, fmt.Errorf("create service: %w", err)
	}

	waiter := ecs.NewServicesStableWaiter(p.ecsClient)
	if err := waiter.Wait(ctx, &ecs.DescribeServicesInput{
		Cluster:  strPtr(p.opts.Cluster),
		Services: []string{name},
	}, serviceStableWait); err != nil {
		return provision.Handle{}, fmt.Errorf("wait for service stable: %w", err)
	}

	return provision.Handle{Type: kind, ProviderID: name, Address: address}, nil
}

func (p *Provider) destroyService(ctx context.Context, handle provision.Handle) error {
	_, err := p.ecsClient.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      strPtr(p.opts.Cluster),
		Service:      strPtr(handle.ProviderID),
		DesiredCount: int32Ptr(0),
	})
	if err != nil {
		if isServiceGone(err) {
			return provision.ErrNotFound
		}
		return fmt.Errorf("drain service: %w", err)
	}

	_, err = p.ecsClient.DeleteService(ctx, &ecs.DeleteServiceInput{
		Cluster: strPtr(p.opts.Cluster),
		Service: strPtr(handle.ProviderID),
		Force:   boolPtr(true),
	})
	if err != nil {
		if isServiceGone(err) {
			return provision.ErrNotFound
		}
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

func isServiceGone(err error) bool {
	var notFound *ecstypes.ServiceNotFoundException
	var notActive *ecstypes.ServiceNotActiveException
	return errors.As(err, &notFound) || errors.As(err, &notActive)
}

func (p *Provider) serviceAddress(spec taskSpec, name string) string {
	if spec.scheme == "bolt" {
		return fmt.Sprintf("bolt://%s.%s:%d", name, p.opts.ServiceDomain, spec.port)
	}
	return fmt.Sprintf("https://%s.%s", name, p.opts.ServiceDomain)
}

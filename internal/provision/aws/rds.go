package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

const dbAvailableWait = 20 * time.Minute

func (p *Provider) createDatabase(ctx context.Context, name string, params provision.Params) (provision.Handle, error) {
	username := params["username"]
	if username == "" {
		username = "postgres"
	}

	_, err := p.rdsClient.CreateDBInstance(ctx, &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: strPtr(name),
		Engine:               strPtr("postgres"),
		EngineVersion:        strPtr("16.4"),
		DBInstanceClass:      strPtr("db.t3.micro"),
		AllocatedStorage:     int32Ptr(20),
		MasterUsername:       strPtr(username),
		MasterUserPassword:   strPtr(params["password"]),
		PubliclyAccessible:   boolPtr(false),
	})
	if err != nil {
		var exists *rdstypes.DBInstanceAlreadyExistsFault
		if !errors.As(err, &exists) {
			return provision.Handle{}, fmt.Errorf("create db instance: %w", err)
		}
		// Deterministic naming: a duplicate create resolves to the
		// existing instance.
	}

	waiter := rds.NewDBInstanceAvailableWaiter(p.rdsClient)
	if err := waiter.Wait(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: strPtr(name),
	}, dbAvailableWait); err != nil {
		return provision.Handle{}, fmt.Errorf("wait for db instance available: %w", err)
	}

	desc, err := p.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: strPtr(name),
	})
	if err != nil || len(desc.DBInstances) == 0 {
		return provision.Handle{}, fmt.Errorf("describe db instance: %w", err)
	}

	inst := desc.DBInstances[0]
	address := ""
	if inst.Endpoint != nil && inst.Endpoint.Address != nil {
		address = fmt.Sprintf("%s:%d", *inst.Endpoint.Address, derefInt32(inst.Endpoint.Port, 5432))
	}

	return provision.Handle{
		Type:       provision.KindDatabase,
		ProviderID: name,
		Address:    address,
	}, nil
}

func (p *Provider) destroyDatabase(ctx context.Context, handle provision.Handle) error {
	_, err := p.rdsClient.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: strPtr(handle.ProviderID),
		SkipFinalSnapshot:    boolPtr(true),
	})
	if err != nil {
		var notFound *rdstypes.DBInstanceNotFoundFault
		if errors.As(err, &notFound) {
			return provision.ErrNotFound
		}
		return fmt.Errorf("delete db instance: %w", err)
	}
	return nil
}

func int32Ptr(i int32) *int32 { return &i }

func derefInt32(p *int32, def int32) int32 {
	if p == nil {
		return def
	}
	return *p
}

package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

func (p *Provider) createSecret(ctx context.Context, name string, params provision.Params) (provision.Handle, error) {
	out, err := p.secretsClient.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         strPtr(name),
		SecretString: strPtr(params["value"]),
	})
	if err != nil {
		var exists *smtypes.ResourceExistsException
		if errors.As(err, &exists) {
			// Re-submission after a crash: the secret is already there,
			// return its handle instead of failing.
			desc, derr := p.secretsClient.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
				SecretId: strPtr(name),
			})
			if derr != nil {
				return provision.Handle{}, fmt.Errorf("describe existing secret: %w", derr)
			}
			return provision.Handle{
				Type:       provision.KindSecret,
				ProviderID: name,
				SecretRef:  *desc.ARN,
			}, nil
		}
		return provision.Handle{}, fmt.Errorf("create secret: %w", err)
	}

	return provision.Handle{
		Type:       provision.KindSecret,
		ProviderID: name,
		SecretRef:  *out.ARN,
	}, nil
}

func (p *Provider) destroySecret(ctx context.Context, handle provision.Handle) error {
	_, err := p.secretsClient.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   strPtr(handle.ProviderID),
		ForceDeleteWithoutRecovery: boolPtr(true),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return provision.ErrNotFound
		}
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

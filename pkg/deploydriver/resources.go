package deploydriver

import (
	"context"
	"fmt"

	"github.com/cuemby/warren/pkg/apierrors"
	"github.com/cuemby/warren/pkg/types"
)

// expectedSchemaVersion is the resource schema both sides of the Load call
// must agree on (spec.md §4.5 step 4: "a schema-version mismatch fails the
// whole load").
const expectedSchemaVersion = 1

// Provisioner is the external collaborator that stands up a database
// instance (spec.md §1 "out of scope: ... These are treated as interfaces
// the core consumes"). One Provisioner per database-like resource kind.
type Provisioner interface {
	Provision(ctx context.Context, serviceName string, input types.ResourceInput) (types.ResourceOutput, error)
}

// AuxContainerStarter starts an auxiliary container resource and reports
// its host-port mapping (spec.md §4.5 step 4, Container kind).
type AuxContainerStarter interface {
	StartAuxContainer(ctx context.Context, serviceName string, input types.ResourceInput) (types.ResourceOutput, error)
}

// SecretLookup supplies a service's secret map for the Secrets resource
// kind.
type SecretLookup interface {
	SecretsFor(ctx context.Context, serviceName string) (map[string]any, error)
}

// Resolver provisions every resource input in a Load request into its
// corresponding output, per spec.md §4.5 step 4's per-kind rules.
type Resolver struct {
	DB        Provisioner // Database, MongoDB, MariaDB, MySQL
	Secrets   SecretLookup
	Container AuxContainerStarter
}

func (r *Resolver) Resolve(ctx context.Context, serviceName string, inputs []types.ResourceInput) ([]types.ResourceOutput, error) {
	outputs := make([]types.ResourceOutput, 0, len(inputs))
	for _, input := range inputs {
		if input.SchemaVersion != expectedSchemaVersion {
			return nil, apierrors.New(apierrors.InvalidContainerConfig,
				fmt.Sprintf("resource %s: schema version %d unsupported", input.Kind, input.SchemaVersion))
		}

		switch input.Kind {
		case types.ResourceDatabase, types.ResourceMongoDB, types.ResourceMariaDB, types.ResourceMySQL:
			if r.DB == nil {
				return nil, apierrors.New(apierrors.Internal, fmt.Sprintf("resource %s: no provisioner configured", input.Kind))
			}
			out, err := r.DB.Provision(ctx, serviceName, input)
			if err != nil {
				return nil, apierrors.Wrap(apierrors.Internal, err).WithStep("provision:" + string(input.Kind))
			}
			outputs = append(outputs, out)

		case types.ResourceSecrets:
			if r.Secrets == nil {
				return nil, apierrors.New(apierrors.Internal, "resource secrets: no secret lookup configured")
			}
			secrets, err := r.Secrets.SecretsFor(ctx, serviceName)
			if err != nil {
				return nil, apierrors.Wrap(apierrors.Internal, err).WithStep("secrets")
			}
			outputs = append(outputs, types.ResourceOutput{Kind: types.ResourceSecrets, Config: secrets})

		case types.ResourcePersist:
			outputs = append(outputs, types.ResourceOutput{Kind: types.ResourcePersist, Config: input.Config})

		case types.ResourceContainer:
			if r.Container == nil {
				return nil, apierrors.New(apierrors.Internal, "resource container: no auxiliary container starter configured")
			}
			out, err := r.Container.StartAuxContainer(ctx, serviceName, input)
			if err != nil {
				return nil, apierrors.Wrap(apierrors.Internal, err).WithStep("aux_container")
			}
			outputs = append(outputs, out)

		default:
			return nil, apierrors.New(apierrors.InvalidContainerConfig, fmt.Sprintf("unknown resource kind %q", input.Kind))
		}
	}
	return outputs, nil
}

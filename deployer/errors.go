package deployer

import (
	"errors"
	"fmt"
)

// DeployError is a failed deploy cycle. The previous deployment stays current.
type DeployError struct {
	Contract string
	Err      error
}

func (e *DeployError) Error() string {
	if e.Contract == "" {
		return fmt.Sprintf("deploy failed: %v", e.Err)
	}
	return fmt.Sprintf("failed to deploy %s: %v", e.Contract, e.Err)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// IsDeployError checks if the error is or wraps a DeployError
func IsDeployError(err error) bool {
	var deployErr *DeployError
	return err != nil && errors.As(err, &deployErr)
}

// ErrNotDeployed is returned by calls on a handle whose contract has no address.
var ErrNotDeployed = errors.New("contract is not deployed")

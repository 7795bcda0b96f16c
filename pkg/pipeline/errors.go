package pipeline

import (
	"fmt"

	"github.com/flowforge/ingestion/pkg/errors"
)

// Error codes specific to topology configuration and runtime contract
// violations, layered over the shared pkg/errors.AppError the same way
// pkg/messaging/errors.go layers broker-specific codes.
const (
	CodeMultipleProducerGroups = "PIPELINE_MULTIPLE_PRODUCER_GROUPS"
	CodeDuplicateDestination   = "PIPELINE_DUPLICATE_DESTINATION"
	CodeUnknownDestination     = "PIPELINE_UNKNOWN_DESTINATION"
	CodeNoProducerGroup        = "PIPELINE_NO_PRODUCER_GROUP"
	CodeInvalidStageCount      = "PIPELINE_INVALID_STAGE_COUNT"
	CodeSupervisorDied         = "PIPELINE_SUPERVISOR_DIED"
	CodeCallbackContract       = "PIPELINE_CALLBACK_CONTRACT_VIOLATION"
)

// ErrMultipleProducerGroups reports that a topology declared more than the
// one producer group this core permits.
func ErrMultipleProducerGroups(count int) *errors.AppError {
	msg := fmt.Sprintf("exactly one producer group is permitted, got %d", count)
	return errors.New(CodeMultipleProducerGroups, msg, nil)
}

// ErrNoProducerGroup reports that a topology declared no producer group.
func ErrNoProducerGroup() *errors.AppError {
	return errors.New(CodeNoProducerGroup, "a topology requires exactly one producer group", nil)
}

// ErrDuplicateDestination reports a destination key declared more than once.
func ErrDuplicateDestination(key string) *errors.AppError {
	return errors.New(CodeDuplicateDestination, "duplicate destination key: "+key, nil)
}

// ErrUnknownDestination reports a processor callback routing to a
// destination key the topology never declared. It is only detected at
// runtime, where the processor worker panics with it; it is a programmer
// error.
func ErrUnknownDestination(key string) *errors.AppError {
	return errors.New(CodeUnknownDestination, "unknown destination key: "+key, nil)
}

// ErrInvalidStageCount reports a non-positive stage count in a pool config.
func ErrInvalidStageCount(pool string, n int) *errors.AppError {
	return errors.New(CodeInvalidStageCount, "invalid stage count for "+pool, nil)
}

// ErrSupervisorDied reports that a supervisor terminated outside its
// restart policy, fatal to the owning topology.
func ErrSupervisorDied(name string, cause error) *errors.AppError {
	return errors.New(CodeSupervisorDied, "supervisor died: "+name, cause)
}

// ErrCallbackContract reports that a user callback returned something
// other than its documented contract (e.g. handle_message error).
func ErrCallbackContract(stage string, cause error) *errors.AppError {
	return errors.New(CodeCallbackContract, "callback contract violated in "+stage, cause)
}

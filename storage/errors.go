package storage

import "errors"

// ErrPlaybookNotFound is returned when a playbook does not exist.
var ErrPlaybookNotFound = errors.New("playbook not found")

// ErrExecutionNotFound is returned when a playbook execution does not exist.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrEventNotFound is returned when an event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrRuleNotFound is returned when an alert rule does not exist.
var ErrRuleNotFound = errors.New("alert rule not found")

// ErrRuleNameExists is returned when an alert rule name is already taken.
var ErrRuleNameExists = errors.New("alert rule name already exists")

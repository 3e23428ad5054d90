// Package agents defines the contract with a remote agent service: named
// agents that run against server-side sessions, with runs that may pause
// to ask for tool outputs.
//
// The contract is deliberately small. Implementations live in
// sub-packages (see agents/openai); orchestration lives in pkg/runs and
// pkg/multiagent.
package agents

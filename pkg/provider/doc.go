// Package provider defines the contract between the orchestrators and the
// remote chat completion backend. A model call resolves once into a
// [Completion], a tagged variant holding either plain choices, a stream of
// chunks, or a data-source message batch; callers switch on its Kind.
package provider

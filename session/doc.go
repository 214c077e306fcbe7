// Package session manages stateful conversations over the document index.
//
// A Manager owns sessions: it appends turns in order, assembles prompts
// within a size budget and records which chunks grounded each answer.
// Mutations of one session are serialized; different sessions proceed
// independently.
//
// Prompt assembly keeps the scaffold whole, drops history oldest-first,
// then drops retrieved context lowest-rank-first down to a floor. A budget
// that cannot hold the scaffold, the current question and the context floor
// fails with core.ErrBudgetTooSmall rather than silently losing grounding.
//
// Chat ties a Manager to a retriever and a generator for question answering.
package session

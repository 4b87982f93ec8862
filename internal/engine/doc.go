// Package engine generates one tutoring response per user input: it builds
// the persona prompt with recent history, streams the model output, splits it
// into paragraph segments as they arrive, and dispatches each segment in
// order. The engine owns releasing the per-user busy lock, on success and on
// failure alike.
package engine

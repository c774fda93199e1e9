// Package domain contains the core business entities of the illustration
// pipeline: jobs, enhancement runs, scenes, and image attempts, together
// with their status lifecycles and validation rules. It is independent of
// any storage or delivery mechanism.
package domain

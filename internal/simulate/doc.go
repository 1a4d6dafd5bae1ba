// Package simulate generates synthetic raw analyses with known instrumental
// parameters and analytical repeatabilities, for validating standardization
// pipelines against a known ground truth.
package simulate

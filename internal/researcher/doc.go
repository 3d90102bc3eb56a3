// Package researcher defines the canonical researcher record, the raw extractor output that feeds the
// normalizer, the tagged extraction outcomes, and the interfaces shared by the capture pipeline.
package researcher

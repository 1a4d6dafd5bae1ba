// Package standardize converts raw clumped-isotope anomalies into absolute
// values on the anchor reference frame, either through a single pooled
// regression over all sessions or through independent per-session fits, and
// propagates the full standardization error covariance to sample averages.
package standardize

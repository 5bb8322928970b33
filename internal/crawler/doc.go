// Package crawler implements the incremental channel-history harvest engine:
// channel listing, history and thread-reply pagination, call spacing with
// join recovery, record normalization, and per-channel batched merges into a
// MergeSink.
package crawler

// Package scheduler drives collection rounds on a fixed interval, never
// letting two of them overlap, and hands the finished ones to a publisher.
//
package scheduler

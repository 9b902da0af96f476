// Package validate runs validator agents over markdown documents, persists
// the resulting validation reports, and derives reviewable recommendations
// from the issues they find.
package validate

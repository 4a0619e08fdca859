// Package git warns when decrypted plaintext could end up in a commit.
//
// A materialized file is exposed when it is tracked by git, or when it is
// untracked but not matched by any .gitignore rule.
package git

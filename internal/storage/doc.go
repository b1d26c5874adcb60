// Package storage persists bot state: the seen-posts ledger, operator
// settings such as the notification channel, and an audit trail of
// privileged commands.
package storage

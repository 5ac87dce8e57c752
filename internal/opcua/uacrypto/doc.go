// Package uacrypto provides the signing and encryption hooks applied to
// secure conversation chunks. It does not frame anything itself: a Policy
// only describes signature length, block sizes and the two functions the
// chunk engine calls.
package uacrypto

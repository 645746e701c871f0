// Package notifier delivers newly detected items to registered recipients.
//
// Every recipient is an independent unit of work. Items reach one recipient
// strictly oldest first, separated by a pacing delay; different recipients
// are served concurrently up to a parallelism bound, so a slow or hung chat
// never holds up the others.
//
// A failed send is terminal for that item and recipient in the current
// cycle. It is logged, counted in the Report and published on the event bus;
// the remaining items and recipients are unaffected.
package notifier

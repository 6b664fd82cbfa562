package views

import "fmt"

// Key layout. The views: prefix keeps the whole subsystem greppable on a
// shared Redis; the buf: prefix is also the scan pattern for sync.
//
//	views:buf:story:42        buffered (unflushed) counter
//	views:seen:story:42:u:7   dedup marker, one per viewer and entity
//	views:total:story:42      cached combined total
//	views:lastsync:story      unix timestamp of the last buffer clear

func bufferKey(kind Kind, id int64) string {
	return fmt.Sprintf("views:buf:%s:%d", kind, id)
}

func bufferPrefix(kind Kind) string {
	return fmt.Sprintf("views:buf:%s:", kind)
}

func dedupKey(kind Kind, id int64, viewer string) string {
	return fmt.Sprintf("views:seen:%s:%d:%s", kind, id, viewer)
}

func totalKey(kind Kind, id int64) string {
	return fmt.Sprintf("views:total:%s:%d", kind, id)
}

func lastSyncKey(kind Kind) string {
	return fmt.Sprintf("views:lastsync:%s", kind)
}

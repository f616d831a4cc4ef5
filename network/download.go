package network

import (
	"io"

	"github.com/pkg/errors"

	"github.com/apple-oss-distributions/webdavfs/fs"
	"github.com/apple-oss-distributions/webdavfs/node"
)

// FinishDownload drains the rest of a handed-off GET body into the
// node's cache file. It owns the slot it was given and releases it on
// every path.
//
// When the node's terminated bit is set between reads, one final 1-byte
// read decides the outcome: no more bytes means the download had
// actually completed, more bytes means it was incomplete and the data is
// discarded (the file will be fetched again if reopened).
func (nw *Network) FinishDownload(n *node.Node, slot *Slot) error {
	body := slot.body
	slot.body = nil
	if body == nil {
		nw.pool.Release(slot)
		return errors.New("slot has no body to finish")
	}

	buf := make([]byte, bodyBufferSize)
	for {
		if n.Terminated() {
			one := make([]byte, 1)
			count, _ := body.Read(one)
			if count == 0 {
				// The download was complete the last time through the
				// loop.
				break
			}
			nw.failSlot(slot, body)
			n.SetStatus(node.DownloadNever)
			return errors.Wrap(fs.ErrIO, "download terminated")
		}

		count, err := body.Read(buf)
		if count > 0 {
			if _, werr := n.CacheFile.Write(buf[:count]); werr != nil {
				nw.failSlot(slot, body)
				n.SetStatus(node.DownloadNever)
				return errors.Wrap(werr, "couldn't write cache file")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fs.Errorf(n, "background download: %v", err)
			nw.failSlot(slot, body)
			n.SetStatus(node.DownloadNever)
			return errors.Wrap(fs.ErrIO, err.Error())
		}
	}

	_ = body.Close()
	if slot.connectionClose {
		slot.closeTransport()
	}
	nw.pool.Release(slot)
	n.SetStatus(node.DownloadFinished)
	return nil
}

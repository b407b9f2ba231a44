// pagestore-sim is a development page server: it listens for pagestream
// connections, answers GetPage requests out of a local pebble store, and
// serves zero pages for blocks it has never seen.  It exists so the client
// stack can be exercised end to end without a real page-server deployment.
//
// Run:
//   go run ./cmd/pagestore-sim -listen 127.0.0.1:6400 -data ./pages
//
// Load pages into the store with the companion -seed flag, which fills a
// relation with deterministic page images:
//   go run ./cmd/pagestore-sim -data ./pages -seed 1000
//
// © 2025 pagecache authors. MIT License.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/pebble"

	"github.com/Voskan/pagecache/pkg/buftag"
	"github.com/Voskan/pagecache/pkg/pagestore"
)

var codec pagestore.BinaryCodec

func main() {
	listen := flag.String("listen", "127.0.0.1:6400", "address to listen on")
	dataDir := flag.String("data", "./pagestore-sim-data", "pebble data directory")
	seed := flag.Int("seed", 0, "seed N deterministic pages into relation 1 and exit")
	flag.Parse()

	db, err := pebble.Open(*dataDir, &pebble.Options{})
	if err != nil {
		log.Fatalf("failed to open pebble store: %v", err)
	}
	defer db.Close()

	if *seed > 0 {
		if err := seedPages(db, uint32(*seed)); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		log.Printf("seeded %d pages", *seed)
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	log.Printf("pagestore-sim listening on %s", *listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var wg sync.WaitGroup
	go func() {
		<-sigCh
		log.Println("received shutdown signal, closing server...")
		ln.Close()
		wg.Wait()
		_ = db.Flush()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept failed: %v", err)
			continue
		}
		wg.Add(1)
		go serveConn(conn, db, &wg)
	}
}

func serveConn(conn net.Conn, db *pebble.DB, wg *sync.WaitGroup) {
	defer func() {
		log.Printf("client disconnected: %s", conn.RemoteAddr())
		conn.Close()
		wg.Done()
	}()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	// Handshake: a pagestream command, optionally followed by an auth token
	// on a second line. The simulator accepts any token.
	cmd, err := readFrame(br)
	if err != nil {
		log.Printf("handshake read failed: %v", err)
		return
	}
	line, _, _ := strings.Cut(string(cmd), "\n")
	if !strings.HasPrefix(line, "pagestream ") {
		log.Printf("unexpected handshake command %q", line)
		return
	}
	if err := writeFrame(bw, []byte("ok")); err != nil {
		return
	}
	if err := bw.Flush(); err != nil {
		return
	}
	log.Printf("pagestream started: %s (%s)", line, conn.RemoteAddr())

	for {
		payload, err := readFrame(br)
		if err != nil {
			if err != io.EOF {
				log.Printf("read failed: %v", err)
			}
			return
		}
		req, err := codec.UnpackRequest(payload)
		if err != nil {
			log.Printf("bad request: %v", err)
			return
		}
		resp := handle(db, req)
		out, err := codec.PackResponse(resp)
		if err != nil {
			log.Printf("bad response: %v", err)
			return
		}
		if err := writeFrame(bw, out); err != nil {
			return
		}
		if err := bw.Flush(); err != nil {
			return
		}
	}
}

func handle(db *pebble.DB, req pagestore.Request) pagestore.Response {
	switch r := req.(type) {
	case *pagestore.GetPageRequest:
		page, err := loadPage(db, r.Tag)
		if err != nil {
			return &pagestore.ErrorResponse{Message: err.Error()}
		}
		return &pagestore.PageResponse{Tag: r.Tag, Page: page}
	case *pagestore.ExistsRequest:
		_, closer, err := db.Get(pageKey(r.Tag))
		if err == nil {
			_ = closer.Close()
			return &pagestore.ExistsResponse{Exists: true}
		}
		return &pagestore.ExistsResponse{Exists: false}
	default:
		return &pagestore.ErrorResponse{Message: fmt.Sprintf("unsupported request %T", req)}
	}
}

func loadPage(db *pebble.DB, tag buftag.Tag) ([]byte, error) {
	v, closer, err := db.Get(pageKey(tag))
	if err == pebble.ErrNotFound {
		return make([]byte, 8192), nil // unseen blocks read as zero pages
	}
	if err != nil {
		return nil, err
	}
	page := make([]byte, len(v))
	copy(page, v)
	_ = closer.Close()
	return page, nil
}

func pageKey(tag buftag.Tag) []byte {
	b := make([]byte, buftag.EncodedLen)
	tag.Encode(b)
	return b
}

// seedPages fills relation 1 with pages whose first eight bytes carry the
// block number, handy for eyeballing round trips.
func seedPages(db *pebble.DB, n uint32) error {
	for blk := uint32(0); blk < n; blk++ {
		tag := buftag.Tag{
			Rnode:    buftag.RelFileNode{SpcNode: 1663, DbNode: 1, RelNode: 1},
			ForkNum:  buftag.MainFork,
			BlockNum: blk,
		}
		page := make([]byte, 8192)
		binary.LittleEndian.PutUint64(page, uint64(blk))
		if err := db.Set(pageKey(tag), page, pebble.Sync); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(br *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > 16<<20 {
		return nil, fmt.Errorf("frame of %d bytes", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(bw *bufio.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	_, err := bw.Write(payload)
	return err
}

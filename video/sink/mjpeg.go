package sink

import (
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Multipart MJPEG over HTTP. Each stream fans out to any number of
// listeners; slow listeners miss frames instead of holding up the producer.

const boundaryWord = "BACKDROPBOUNDARY"
const headerf = "\r\n" +
	"--" + boundaryWord + "\r\n" +
	"Content-Type: image/jpeg\r\n" +
	"Content-Length: %d\r\n" +
	"\r\n"

// MJPEGServer serves named streams, selected with ?name=.
type MJPEGServer struct {
	m    map[string]*MJPEGStream
	lock sync.Mutex
}

func NewMJPEGServer() *MJPEGServer {
	return &MJPEGServer{
		m: make(map[string]*MJPEGStream),
	}
}

// Stream returns the named stream, creating it on first use.
func (s *MJPEGServer) Stream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	if ms, ok := s.m[name]; ok {
		return ms
	}
	ms := &MJPEGStream{
		name:   name,
		m:      make(map[chan []byte]bool),
		parent: s,
	}
	s.m[name] = ms
	return ms
}

func (s *MJPEGServer) getStream(name string) *MJPEGStream {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.m[name]
}

// Names lists the streams currently available.
func (s *MJPEGServer) Names() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var names []string
	for n := range s.m {
		names = append(names, n)
	}
	return names
}

// ServeHTTP implements http.Handler interface, serving MJPEG.
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "output"
	}
	stream := s.getStream(name)
	if stream == nil {
		http.Error(w, "unknown stream", http.StatusNotFound)
		return
	}

	log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream %q connected", name)
	w.Header().Add("Content-Type", "multipart/x-mixed-replace;boundary="+boundaryWord)

	c := stream.listen()
	defer stream.unlisten(c)

	for {
		select {
		case <-r.Context().Done():
			log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream %q disconnected", name)
			return
		case b, ok := <-c:
			if !ok {
				return
			}
			if _, err := w.Write(b); err != nil {
				log.WithField("addr", r.RemoteAddr).Infof("MJPEG stream %q disconnected", name)
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

type MJPEGStream struct {
	name   string
	m      map[chan []byte]bool
	parent *MJPEGServer
	lock   sync.Mutex
	closed bool
}

func (s *MJPEGStream) listen() chan []byte {
	c := make(chan []byte, 1)
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		close(c)
		return c
	}
	s.m[c] = true
	return c
}

func (s *MJPEGStream) unlisten(c chan []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.m, c)
}

// Listeners is the number of connected clients.
func (s *MJPEGStream) Listeners() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.m)
}

// Put encodes img and hands it to every listener that is ready.
func (s *MJPEGStream) Put(img gocv.Mat) {
	if s.Listeners() == 0 {
		// Nobody is listening; don't bother encoding.
		return
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		log.Errorf("Error encoding to JPG for MJPEG stream %q: %v", s.name, err)
		return
	}
	defer buf.Close()
	s.PutJPEG(buf.GetBytes())
}

// PutJPEG sends an already encoded image.
func (s *MJPEGStream) PutJPEG(jpeg []byte) {
	header := fmt.Sprintf(headerf, len(jpeg))
	// Every listener gets the same read-only slice.
	frame := make([]byte, len(header)+len(jpeg))
	copy(frame, header)
	copy(frame[len(header):], jpeg)

	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.m {
		select {
		case c <- frame:
		default:
			// Skip listeners not ready for next frame.
		}
	}
}

// Close disconnects all listeners and removes the stream from its server.
func (s *MJPEGStream) Close() {
	s.parent.lock.Lock()
	delete(s.parent.m, s.name)
	s.parent.lock.Unlock()

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for c := range s.m {
		close(c)
		delete(s.m, c)
	}
}

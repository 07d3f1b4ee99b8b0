package ffmpeg

import (
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hoffmation/hkhoffmation/mp4"
)

// The test binary doubles as a fake transcoder. helperArgs is put in front of
// the transcoder arguments, GO_HELPER_MODE selects what the fake does.

const helperEnv = "GO_WANT_HELPER_PROCESS"

func helperArgs() []string {
	return []string{"-test.run=TestHelperProcess", "--"}
}

func useHelper(t *testing.T, mode string) string {
	t.Setenv(helperEnv, "1")
	t.Setenv("GO_HELPER_MODE", mode)
	return os.Args[0]
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	switch os.Getenv("GO_HELPER_MODE") {
	case "sleep":
		time.Sleep(time.Minute)
	case "exit":
		os.Exit(3)
	case "fragmented":
		writeFragments()
	}
	os.Exit(0)
}

func writeFragments() {
	var target string
	for _, a := range os.Args {
		if strings.HasPrefix(a, "tcp://") {
			target = strings.TrimPrefix(a, "tcp://")
		}
	}

	conn, err := net.Dial("tcp", target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()

	for _, typ := range []string{mp4.TypeFtyp, mp4.TypeMoov, mp4.TypeMoof, mp4.TypeMdat} {
		mp4.NewBox(typ, []byte(typ+"-payload")).WriteTo(conn)
	}
}

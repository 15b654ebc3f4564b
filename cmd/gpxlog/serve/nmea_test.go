package serve

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestCheckSentence(t *testing.T) {
	rmc := sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	lower := rmc[:len(rmc)-2] + strings.ToLower(rmc[len(rmc)-2:])
	cases := []struct {
		in  string
		out string
		res string
	}{
		{rmc, rmc, lineOK},
		{rmc + "\r", rmc, lineOK},
		{"  " + lower, lower, lineOK},
		{"", "", lineEmpty},
		{"   ", "", lineEmpty},
		{"hello world", "", lineNonNMEA},
		{"$GPRMC,123519,A", "", lineNoChecksum},
		{"$GPRMC,123519,A*00", "", lineBadChecksum},
	}
	for _, tc := range cases {
		out, res := checkSentence(tc.in)
		if out != tc.out || res != tc.res {
			t.Errorf("checkSentence(%q) = %q, %q; want %q, %q", tc.in, out, res, tc.out, tc.res)
		}
	}
}

func TestSentenceType(t *testing.T) {
	cases := map[string]string{
		"$GPRMC,123519,A*00":    "RMC",
		"$GNGGA,123519*00":      "GGA",
		"!AIVDM,1,1,,A,15M*00":  "VDM",
		"!AIVDO,1,1,,A,15M*00":  "VDO",
		"$PGRME,15.0,M*00":      "",
		"$GP*00":                "",
		"$IIXDR,C,19.5,C,AIR*0": "XDR",
	}
	for in, want := range cases {
		if got := sentenceType(in); got != want {
			t.Errorf("sentenceType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInputPassesCheckedSentences(t *testing.T) {
	good := sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	data := strings.Join([]string{
		good,
		"",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W",
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00",
		"hello world",
		good + "\r",
	}, "\n")

	c := make(chan string, 10)
	in := streamInput(c, io.NopCloser(strings.NewReader(data)), "test")
	if err := in.Serve(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatal("expected EOF, got", err)
	}
	close(c)

	var got []string
	for line := range c {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != good || got[1] != good {
		t.Errorf("unexpected lines %q", got)
	}
}

func TestRouter(t *testing.T) {
	in := make(chan string)
	r := newRouter(in)
	positions := r.Route(kindPosition)
	ais1 := r.Route(kindAIS)
	ais2 := r.Route(kindAIS)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx) }()

	rmc := sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	vdm := "!AIVDM,1,1,,A,15M67FC000G?ufbE`FepT@3n00Sa,0*5C"
	in <- sentence("IIMWV,045.0,R,10.5,N,A")
	in <- rmc
	in <- vdm

	expect := func(c <-chan string, want string) {
		t.Helper()
		select {
		case got := <-c:
			if got != want {
				t.Errorf("got %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout")
		}
	}
	expect(positions, rmc)
	expect(ais1, vdm)
	expect(ais2, vdm)

	select {
	case got := <-positions:
		t.Error("unexpected sentence", got)
	default:
	}
}

func TestRouterDropsForSlowCollector(t *testing.T) {
	in := make(chan string)
	r := newRouter(in)
	slow := r.Route(kindPosition)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Serve(ctx) }()

	rmc := sentence("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	for i := 0; i < routeBufferSize+10; i++ {
		select {
		case in <- rmc:
		case <-time.After(5 * time.Second):
			t.Fatal("router blocked on a full output")
		}
	}
	if n := len(slow); n != routeBufferSize {
		t.Error("expected a full buffer, got", n)
	}
}

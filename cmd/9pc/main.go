package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/shlex"
	"github.com/mattn/go-isatty"
	"golang.org/x/net/context"

	p9c "github.com/frobnitzem/go-9pc"
)

var (
	addr  string
	uname string
	aname string
	trace bool
)

func init() {
	flag.StringVar(&addr, "addr", "localhost:5640", "addr of 9p service")
	flag.StringVar(&uname, "user", "anonymous", "user to attach as")
	flag.StringVar(&aname, "aname", "/", "file tree to attach to")
	flag.BoolVar(&trace, "trace", false, "log every 9p operation")
}

func main() {
	ctx := context.Background()
	log.SetFlags(0)
	flag.Parse()

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	proto := "tcp"
	if strings.HasPrefix(addr, "unix:") {
		proto = "unix"
		addr = addr[5:]
	}

	log.Println("dialing", addr)
	conn, err := net.Dial(proto, addr)
	if err != nil {
		log.Fatal(err)
	}

	session, err := p9c.NewSession(ctx, conn)
	if err != nil {
		log.Fatalln(err)
	}
	if trace {
		session = p9c.NewLogger("9pc: ", session)
	}
	msize, version := session.Version()
	log.Println("9p version", version, msize)

	fs := p9c.CFileSys(session)
	root, err := fs.Attach(ctx, uname, aname, nil)
	if err != nil {
		log.Fatal(err)
	}
	// clone the pwd fid so we can clunk it
	_, pwd, err := root.Walk(ctx)
	if err != nil {
		log.Fatal(err)
	}
	commander := &fsCommander{
		ctx:     ctx,
		session: session,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		root:    root,
		pwd:     pwd,
	}

	completer := readline.NewPrefixCompleter(
		readline.PcItem("ls"),
		readline.PcItem("stat"),
		readline.PcItem("cat"),
		readline.PcItem("cd"),
		readline.PcItem("pwd"),
		readline.PcItem("write"),
	)

	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:  ".history",
		AutoComplete: completer,
	})
	if err != nil {
		log.Fatalln(err)
	}
	commander.readline = rl

	for {
		commander.readline.SetPrompt(fmt.Sprintf("%s > ", commander.path))

		line, err := rl.Readline()
		if err != nil {
			log.Fatalln("error: ", err)
		}

		if line == "" {
			continue
		}

		args, err := shlex.Split(line)
		if err != nil {
			color.Red("bad command line: %v", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		name := args[0]
		var cmd func(ctx context.Context, args ...string) error

		switch name {
		case "ls":
			cmd = commander.cmdls
		case "cd":
			cmd = commander.cmdcd
		case "pwd":
			cmd = commander.cmdpwd
		case "cat":
			cmd = commander.cmdcat
		case "stat":
			cmd = commander.cmdstat
		case "write":
			cmd = commander.cmdwrite
		default:
			cmd = func(ctx context.Context, args ...string) error {
				return fmt.Errorf("command not implemented")
			}
		}

		ctx, _ = context.WithTimeout(commander.ctx, 5*time.Second)
		if err := cmd(ctx, args[1:]...); err != nil {
			if err == p9c.ErrClosed {
				color.Red("connection closed, shutting down")
				session.Stop(err)
				return
			}

			color.Red("%s: %v", name, err)
		}
	}
}

type fsCommander struct {
	ctx     context.Context
	session p9c.Session
	pwd     p9c.Dirent
	root    p9c.Dirent
	path    string

	readline *readline.Instance
	stdout   io.Writer
	stderr   io.Writer
}

func (c *fsCommander) toWalk(p string) (p9c.Dirent, []string, error) {
	isAbs, steps, err := p9c.ToWalk(p)
	rel := c.pwd
	if isAbs {
		rel = c.root
	}
	return rel, steps, err
}

func printDir(wr io.Writer, d p9c.Dir) {
	name := d.Name
	if d.Mode&p9c.DMDIR != 0 {
		name = color.BlueString(name)
	}
	fmt.Fprintf(wr, "%v\t%v\t%v\t%s\n", os.FileMode(d.Mode&0777), d.Length, d.ModTime, name)
}

func (c *fsCommander) cmdls(ctx context.Context, args ...string) error {
	ps := []string{""}
	if len(args) > 0 {
		ps = args
	}

	wr := tabwriter.NewWriter(c.stdout, 0, 8, 8, ' ', 0)

	for _, p := range ps {
		// create a header if have more than one path.
		if len(ps) > 1 {
			fmt.Fprintln(wr, p+":")
		}

		rel, steps, err := c.toWalk(p)
		if err != nil {
			return err
		}

		qids, ent, err := rel.Walk(ctx, steps...)
		if err != nil || len(qids) != len(steps) {
			return err
		}
		defer ent.Clunk(ctx)

		if !p9c.IsDir(ent) { // non-dir.
			d, err := ent.Stat(ctx)
			if err != nil {
				return err
			}
			printDir(wr, d)
		} else {
			dirs, err := ent.Entries(ctx)
			if err != nil {
				return err
			}
			for _, d := range dirs {
				printDir(wr, d)
			}
		}

		if len(ps) > 1 {
			fmt.Fprintln(wr, "")
		}
	}

	// all output is dumped only after success.
	return wr.Flush()
}

func (c *fsCommander) cmdcd(ctx context.Context, args ...string) error {
	var p string
	switch len(args) {
	case 0:
		p = "/"
	case 1:
		p = args[0]
	default:
		return fmt.Errorf("invalid args: %v", args)
	}

	rel, steps, err := c.toWalk(p)
	if err != nil {
		return err
	}

	qids, next, err := rel.Walk(ctx, steps...)
	if err != nil || len(qids) != len(steps) {
		return err
	}
	if !p9c.IsDir(next) {
		next.Clunk(ctx)
		return errors.New("not a directory.")
	}

	c.pwd.Clunk(ctx)
	c.pwd = next
	if strings.HasPrefix(p, "/") {
		c.path = p
	} else {
		c.path = strings.TrimSuffix(c.path, "/") + "/" + p
	}

	return nil
}

func (c *fsCommander) cmdpwd(ctx context.Context, args ...string) error {
	if len(args) != 0 {
		return fmt.Errorf("pwd takes no arguments")
	}

	fmt.Println(c.path)
	return nil
}

func (c *fsCommander) cmdstat(ctx context.Context, args ...string) error {
	wr := tabwriter.NewWriter(c.stdout, 0, 8, 8, ' ', 0)

	for _, p := range args {
		rel, steps, err := c.toWalk(p)
		if err != nil {
			return err
		}

		qids, ent, err := rel.Walk(ctx, steps...)
		if err != nil || len(qids) != len(steps) {
			return err
		}
		defer ent.Clunk(ctx)

		d, err := ent.Stat(ctx)
		if err != nil {
			return err
		}
		printDir(wr, d)
	}

	return wr.Flush()
}

func (c *fsCommander) cmdcat(ctx context.Context, args ...string) error {
	var p string
	switch len(args) {
	case 0:
		p = "/"
	case 1:
		p = args[0]
	default:
		return fmt.Errorf("invalid args: %v", args)
	}

	rel, steps, err := c.toWalk(p)
	if err != nil {
		return err
	}

	qids, ent, err := rel.Walk(ctx, steps...)
	if err != nil || len(qids) != len(steps) {
		return err
	}
	defer ent.Clunk(ctx)

	file, err := ent.Open(ctx, p9c.OREAD)
	if err != nil {
		return err
	}

	b := make([]byte, file.IOUnit())

	var offset int64
	for {
		n, err := file.Read(ctx, b, offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(b[:n]); err != nil {
			return err
		}
		offset += int64(n)
	}

	os.Stdout.Write([]byte("\n"))

	return nil
}

func (c *fsCommander) cmdwrite(ctx context.Context, args ...string) error {
	if len(args) < 2 {
		return fmt.Errorf("write <path> <text>")
	}
	p := args[0]

	rel, steps, err := c.toWalk(p)
	if err != nil {
		return err
	}

	qids, ent, err := rel.Walk(ctx, steps...)
	if err != nil || len(qids) != len(steps) {
		return err
	}
	defer ent.Clunk(ctx)

	file, err := ent.Open(ctx, p9c.OWRITE)
	if err != nil {
		return err
	}

	b := []byte(strings.Join(args[1:], " "))

	// WARNING: refuses to do a 0-byte write.
	for nwritten := int64(0); len(b) > 0; {
		n, err := file.Write(ctx, b, nwritten)
		if err != nil {
			return err
		}
		b = b[n:]
		nwritten += int64(n)
	}

	return nil
}

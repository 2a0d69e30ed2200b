package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	chatdomain "umrah_portal/server/chat/domain"
	commonlog "umrah_portal/server/common/log"
	pilgrimapp "umrah_portal/server/pilgrim/app"
	"umrah_portal/server/realtime"
	"umrah_portal/server/rest"
)

const usage = `usage: pilgrim <command> [flags]

commands:
  login          sign in with -email and -password
  logout         sign out and clear the stored session
  whoami         print the signed in user and role
  packages       list Umrah packages (-page, -city, -search)
  coupon         validate a coupon (-package, -code, -amount)
  chats          list chats (-page)
  messages       list messages of a chat (-chat, -page)
  send           send a message (-chat, -text or -file)
  notifications  list notifications (-page, -read ID, -read-all)
  watch          stay connected and print realtime activity
`

func main() {
	os.Exit(mainExit())
}

func mainExit() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := pilgrimapp.New(pilgrimapp.LoadConfig(), func(message string) {
		fmt.Fprintln(os.Stderr, "!", message)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize pilgrim client: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			commonlog.Errorf("event=pilgrim_cli action=close status=failed error=%v", err)
		}
	}()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start pilgrim client: %v\n", err)
		return 1
	}
	if err := run(ctx, app, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, app *pilgrimapp.App, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	switch command {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", os.Getenv("PILGRIM_PASSWORD"), "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		profile, err := app.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Printf("signed in as %s (%s), dashboard %s\n", profile.Name, profile.Role, profile.Role.DashboardPath())
		return nil

	case "logout":
		return app.Logout(ctx)

	case "whoami":
		session, ok := app.Session.Session()
		if !ok || !app.Session.IsAuthenticated() {
			return errors.New("not signed in")
		}
		fmt.Printf("id=%s name=%s role=%s expires=%s\n", session.User.ID, session.User.Name, app.Session.UserRole(), session.Expiry.Format("2006-01-02"))
		return nil

	case "packages":
		page := fs.Int("page", 1, "page number")
		city := fs.String("city", "", "filter by city")
		search := fs.String("search", "", "search text")
		if err := fs.Parse(args); err != nil {
			return err
		}
		res := app.Packages.ListPackages(ctx, rest.PackageFilter{Page: *page, City: *city, Search: *search})
		if !res.Success {
			return errors.New(res.Message)
		}
		for _, p := range res.Data.Items {
			fmt.Printf("%-6s %-40s %6d days %10.2f %s\n", p.ID, p.Title, p.DurationDays, p.Price, p.Currency)
		}
		fmt.Printf("page %d of %d\n", res.Data.CurrentPage, res.Data.LastPage)
		return nil

	case "coupon":
		packageID := fs.String("package", "", "package id")
		code := fs.String("code", "", "coupon code")
		amount := fs.Float64("amount", 0, "order amount")
		if err := fs.Parse(args); err != nil {
			return err
		}
		result, err := app.Payments.ValidateCoupon(ctx, app.Session.Token(), rest.CouponRequest{Code: *code, PackageID: *packageID, Amount: *amount})
		if err != nil {
			return err
		}
		fmt.Printf("valid=%t discount=%.2f final=%.2f %s\n", result.Valid, result.DiscountAmount, result.FinalAmount, result.Message)
		return nil

	case "chats":
		page := fs.Int("page", 1, "page number")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := app.ChatStore.LoadChats(ctx, *page); err != nil {
			return err
		}
		for _, c := range app.ChatStore.Chats() {
			fmt.Printf("%-6s %-30s unread=%d %s\n", c.ID, chatTitle(c), c.UnreadCount, lastLine(c))
		}
		return nil

	case "messages":
		chatID := fs.String("chat", "", "chat id")
		page := fs.Int("page", 1, "page number")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *chatID == "" {
			return errors.New("-chat is required")
		}
		if err := app.ChatStore.LoadMessages(ctx, *chatID, *page); err != nil {
			return err
		}
		for _, m := range app.ChatStore.Messages(*chatID) {
			printMessage(m)
		}
		return nil

	case "send":
		chatID := fs.String("chat", "", "chat id")
		text := fs.String("text", "", "message text")
		file := fs.String("file", "", "attachment path")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *chatID == "" {
			return errors.New("-chat is required")
		}
		if *file != "" {
			content, err := os.ReadFile(*file)
			if err != nil {
				return err
			}
			res := app.Chats.Upload(ctx, app.Session.Token(), *chatID, *file, content, *text)
			if !res.Success {
				return errors.New(res.Message)
			}
			app.ChatStore.AddMessage(res.Data, *chatID)
			printMessage(res.Data)
			return nil
		}
		msg, err := app.ChatStore.SendMessage(ctx, *chatID, *text, chatdomain.MessageTypeText)
		if err != nil {
			return err
		}
		printMessage(msg)
		return nil

	case "notifications":
		page := fs.Int("page", 1, "page number")
		readID := fs.String("read", "", "mark one notification read")
		readAll := fs.Bool("read-all", false, "mark every notification read")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := app.Inbox.Fetch(ctx, *page); err != nil {
			return err
		}
		switch {
		case *readAll:
			if err := app.Inbox.MarkAllRead(ctx); err != nil {
				return err
			}
		case *readID != "":
			if err := app.Inbox.MarkRead(ctx, *readID); err != nil {
				return err
			}
		}
		_ = app.Inbox.RefreshUnreadCount(ctx)
		for _, n := range app.Inbox.Notifications() {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Printf("%s %-6s [%s/%s] %s: %s\n", mark, n.ID, n.Type, n.Priority, n.Title, n.Message)
		}
		fmt.Printf("unread: %d\n", app.Inbox.UnreadCount())
		return nil

	case "watch":
		if !app.Session.IsAuthenticated() {
			return errors.New("not signed in")
		}
		return watch(ctx, app)

	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func watch(ctx context.Context, app *pilgrimapp.App) error {
	stopStatus := app.Realtime.OnStatusChange(func(s realtime.Status) {
		fmt.Printf("~ realtime %s (attempts %d)\n", s, app.Realtime.Attempts())
	})
	defer stopStatus()

	if err := app.ChatStore.LoadChats(ctx, 1); err != nil {
		return err
	}
	if err := app.Inbox.Fetch(ctx, 1); err != nil {
		return err
	}

	lastUnread := app.ChatStore.UnreadTotal()
	stopChats := app.ChatStore.OnChange(func() {
		if total := app.ChatStore.UnreadTotal(); total != lastUnread {
			lastUnread = total
			fmt.Printf("~ unread messages: %d\n", total)
		}
	})
	defer stopChats()

	lastInbox := app.Inbox.UnreadCount()
	stopInbox := app.Inbox.OnChange(func() {
		if n := app.Inbox.UnreadCount(); n != lastInbox {
			lastInbox = n
			if items := app.Inbox.Notifications(); len(items) > 0 {
				fmt.Printf("~ notification: %s (unread %d)\n", items[0].Title, n)
			}
		}
	})
	defer stopInbox()

	fmt.Printf("watching as %s, press ctrl-c to stop\n", app.Session.UserID())
	<-ctx.Done()
	return nil
}

func chatTitle(c chatdomain.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

func lastLine(c chatdomain.Chat) string {
	if c.LastMessage == nil {
		return ""
	}
	return c.LastMessage.Content
}

func printMessage(m chatdomain.Message) {
	sender := string(m.SenderID)
	if m.Sender != nil && m.Sender.Name != "" {
		sender = m.Sender.Name
	}
	fmt.Printf("[%s] %s %s: %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04"), m.ID, sender, m.Content, m.Status)
}

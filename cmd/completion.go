package cmd

import (
	"fmt"
	"io"

	"github.com/urfave/cli"
)

// CompletionCommand prints shell completion scripts
func CompletionCommand() cli.Command {
	return cli.Command{
		Name:      "completion",
		Usage:     "Generate shell completions",
		ArgsUsage: "<bash|zsh|fish>",
		Action: func(c *cli.Context) error {
			return Completion(c.App.Writer, c.Args().First())
		},
	}
}

// Completion writes the completion script for shell
func Completion(w io.Writer, shell string) error {
	switch shell {
	case "bash":
		fmt.Fprint(w, bashCompletion)
	case "zsh":
		fmt.Fprint(w, zshCompletion)
	case "fish":
		fmt.Fprint(w, fishCompletion)
	default:
		return fmt.Errorf("unknown shell %q, supported: bash, zsh, fish", shell)
	}
	return nil
}

const bashCompletion = `_unvault() {
    local cur prev words cword
    _init_completion || return

    local commands="decrypt status recover keyring completion help"

    if [[ $cword -eq 1 ]]; then
        if [[ "$cur" == -* ]]; then
            COMPREPLY=($(compgen -W "--config --level --help --version" -- "$cur"))
        else
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
        fi
        return
    fi

    local cmd="${words[1]}"
    case "$cmd" in
        decrypt|status)
            _filedir -d
            ;;
        recover)
            if [[ "$cur" == -* ]]; then
                COMPREPLY=($(compgen -W "--all" -- "$cur"))
            else
                _filedir -d
            fi
            ;;
        keyring)
            COMPREPLY=($(compgen -W "save delete status" -- "$cur"))
            ;;
        help)
            COMPREPLY=($(compgen -W "$commands" -- "$cur"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "bash zsh fish" -- "$cur"))
            ;;
    esac
}

complete -F _unvault unvault
`

const zshCompletion = `#compdef unvault

_unvault() {
    local -a commands
    commands=(
        'decrypt:Unlock the vault and decrypt every encrypted file'
        'status:Show vault state (no password)'
        'recover:Clear leftover recovery markers'
        'keyring:Manage the password in the OS keyring'
        'completion:Generate shell completions'
        'help:Show help'
    )

    _arguments -C \
        '--config[settings file]:file:_files' \
        '--level[log level]:level:(debug info warn error)' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe -t commands 'unvault commands' commands
            ;;
        args)
            case $words[1] in
                decrypt|status)
                    _arguments '1:directory:_files -/'
                    ;;
                recover)
                    _arguments '--all[clear markers for every directory]' '1:directory:_files -/'
                    ;;
                keyring)
                    _values 'action' save delete status
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
                help)
                    _describe -t commands 'unvault commands' commands
                    ;;
            esac
            ;;
    esac
}

_unvault "$@"
`

const fishCompletion = `# unvault fish completions
set -l commands decrypt status recover keyring completion help

complete -c unvault -f
complete -c unvault -l config -r -d 'Settings file'
complete -c unvault -l level -x -a "debug info warn error" -d 'Log level'

complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a decrypt -d 'Decrypt the vault'
complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a status -d 'Show vault state'
complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a recover -d 'Clear recovery markers'
complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a keyring -d 'Manage password in OS keyring'
complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a completion -d 'Generate completions'
complete -c unvault -n "not __fish_seen_subcommand_from $commands" -a help -d 'Show help'

complete -c unvault -n "__fish_seen_subcommand_from decrypt status recover" -a "(__fish_complete_directories)"
complete -c unvault -n "__fish_seen_subcommand_from recover" -l all -d 'Clear markers for every directory'
complete -c unvault -n "__fish_seen_subcommand_from keyring" -a "save delete status"
complete -c unvault -n "__fish_seen_subcommand_from help" -a "$commands"
complete -c unvault -n "__fish_seen_subcommand_from completion" -a "bash zsh fish"
`
